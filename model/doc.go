// Package model holds the shared data shapes of the vault core: records,
// chain entries, anchor requests/receipts, and the structured error taxonomy
// adapters use to map failures onto transport status codes.
package model
