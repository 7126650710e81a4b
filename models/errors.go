package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrBanned            = errors.New("account is banned")
	ErrNoActiveCharacter = errors.New("account has no active character")
	ErrAlreadyQueued     = errors.New("account is already queued")
	ErrAlreadyInBattle   = errors.New("account is already in a battle")
	ErrItemNotOwned      = errors.New("item is not owned")
	ErrDuplicateRecord   = errors.New("battle record already exists")
	ErrInvalidToken      = errors.New("invalid token")
)
