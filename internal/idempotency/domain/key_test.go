package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKeyIsDeterministic(t *testing.T) {
	a := DeriveKey("submit_time_entry", "2025001", "svc-1", "emp-7", "2026-03-01", "90")
	b := DeriveKey("submit_time_entry", " 2025001", "svc-1", "emp-7", "2026-03-01", "90 ")

	assert.Equal(t, a, b)
	assert.Len(t, a, len("drv_")+32)
}

func TestDeriveKeySeparatesFields(t *testing.T) {
	a := DeriveKey("op", "ab", "c")
	b := DeriveKey("op", "a", "bc")
	assert.NotEqual(t, a, b)

	c := DeriveKey("op", "2025001", "svc-1", "emp-7", "2026-03-01", "90")
	d := DeriveKey("op", "2025001", "svc-1", "emp-7", "2026-03-01", "91")
	assert.NotEqual(t, c, d)
}
