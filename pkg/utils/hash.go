package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// SubscriberHash is the Mailchimp member id: md5 of the lowercased address.
func SubscriberHash(email string) string {
	return HashString(strings.ToLower(strings.TrimSpace(email)))
}
