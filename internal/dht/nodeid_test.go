package dht

import (
	"testing"
)

func TestXorSelfInverse(t *testing.T) {
	a := RandomNodeID()
	b := RandomNodeID()
	d := Xor(a, b)
	if Xor(d, b) != a {
		t.Fatalf("xor(xor(a,b),b) should equal a")
	}
}

func TestLessTotalOrder(t *testing.T) {
	var zero, one NodeID
	one[NodeIDBytes-1] = 1
	if !Less(zero, one) {
		t.Fatalf("zero should be less than one")
	}
	if Less(one, zero) {
		t.Fatalf("one should not be less than zero")
	}
	if Less(zero, zero) {
		t.Fatalf("a value should not be less than itself")
	}
}

func TestBucketIndexSelfIsNegative(t *testing.T) {
	id := RandomNodeID()
	if BucketIndex(id, id) != -1 {
		t.Fatalf("bucket index of self should be -1")
	}
}

func TestBucketIndexMSBFirst(t *testing.T) {
	var self NodeID
	var other NodeID
	other[0] = 0x80 // differs in the highest bit of the first byte
	if got := BucketIndex(self, other); got != 0 {
		t.Fatalf("expected bucket 0 for a difference in the top bit, got %d", got)
	}

	var other2 NodeID
	other2[NodeIDBytes-1] = 0x01 // differs only in the lowest bit
	if got := BucketIndex(self, other2); got != NumBuckets-1 {
		t.Fatalf("expected bucket %d for a difference in the bottom bit, got %d", NumBuckets-1, got)
	}
}

func TestNodeIDFromDeviceIDDeterministic(t *testing.T) {
	a := NodeIDFromDeviceID("alice")
	b := NodeIDFromDeviceID("alice")
	if a != b {
		t.Fatalf("NodeIDFromDeviceID should be deterministic for the same device id")
	}
	if c := NodeIDFromDeviceID("bob"); c == a {
		t.Fatalf("distinct device ids should hash to distinct node ids (collision is astronomically unlikely here)")
	}
}

func TestParseNodeIDHexRoundTrip(t *testing.T) {
	id := RandomNodeID()
	parsed, err := ParseNodeIDHex(id.Hex())
	if err != nil {
		t.Fatalf("ParseNodeIDHex: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch")
	}
}
