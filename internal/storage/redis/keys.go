package redis

import (
	"fmt"

	"github.com/mcoot/ratingledger/internal/model"
)

// Key prefix for all ledger data
const keyPrefix = "ratingledger"

// accountKey returns the Redis key holding an Account document
func accountKey(id model.AccountID) string {
	return fmt.Sprintf("%s:account:%s", keyPrefix, id)
}

// usernameIndexKey returns the Redis key for the username -> account_id index
func usernameIndexKey(username string) string {
	return fmt.Sprintf("%s:idx:username:%s", keyPrefix, username)
}

// emailIndexKey returns the Redis key for the email -> account_id index
func emailIndexKey(email string) string {
	return fmt.Sprintf("%s:idx:email:%s", keyPrefix, email)
}

// ratingIndexKey returns the Redis key for the ZSET of active accounts scored by rating
func ratingIndexKey() string {
	return fmt.Sprintf("%s:idx:rating", keyPrefix)
}
