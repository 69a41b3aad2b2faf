package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitByMultipleDelimiters(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitByMultipleDelimiters("a,b;c", ",", ";"))
	assert.Equal(t, []string{"a", "b=c"}, SplitByMultipleDelimiters("a,b=c", ",", ";"))
	assert.Equal(t, []string{"a"}, SplitByMultipleDelimiters("a", ",", ";"))
	assert.Equal(t, []string{"a,b"}, SplitByMultipleDelimiters("a,b"))
	assert.Equal(t, []string{"127.0.0.1:6379", "127.0.0.1:6380"},
		SplitByMultipleDelimiters(" 127.0.0.1:6379 ;; 127.0.0.1:6380", ",", ";"))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", FirstNonEmpty("", "b", "c"))
	assert.Equal(t, "", FirstNonEmpty("", ""))
	assert.Equal(t, "", FirstNonEmpty())
}
