//go:build linux

package datalink

import "testing"

func TestHtons(t *testing.T) {
	if got := htons(0x6003); got != 0x0360 {
		t.Fatalf("htons(0x6003) = %#04x, want 0x0360", got)
	}
}
