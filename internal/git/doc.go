// Package git locates working trees and runs the deferred commit and push
// operations against them.
//
// Repository discovery, branch and remote lookup use go-git. The operations
// themselves shell out to the git CLI so hooks, signing and credential
// helpers configured by the user apply exactly as they would interactively.
package git
