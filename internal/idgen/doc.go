// Package idgen generates opaque unique identifiers for kernel objects that
// live outside the PID/TID slot namespaces, such as address spaces and the
// boot session.
package idgen
