// Package auth provides ports.AuthProvider implementations.
//
// The memory provider keeps accounts in process, hashes passwords with
// bcrypt and issues HS256 session tokens.
package auth
