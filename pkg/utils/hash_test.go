package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", HashString("hello"))
}

func TestSubscriberHash_NormalizesCase(t *testing.T) {
	assert.Equal(t, SubscriberHash("Urist.McVankab@FreddieMac.com "), SubscriberHash("urist.mcvankab@freddiemac.com"))
	assert.Equal(t, "05b9d43160b5c68a327efe2a45c8b90c", SubscriberHash("urist.mcvankab@freddiemac.com"))
}
