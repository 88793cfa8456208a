// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the orchestration lifecycle from plan
// loading to the final run summary, decoupled from any specific entrypoint
// like a CLI.
package app
