// Package proc holds the process-group plumbing shared by the compiler and the supervisor.
package proc
