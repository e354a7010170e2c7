// Package mysql stores the task audit history in MySQL and applies the
// embedded schema migrations on start-up.
package mysql
