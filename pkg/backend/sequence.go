package backend

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// MaxRangeCount bounds the number of entries a single range may touch.
const MaxRangeCount = 256

// DefaultStartIndex is used when a range add does not specify one.
const DefaultStartIndex = "1"

// Pair is one generated name/address binding.
type Pair struct {
	Name    string
	Address string
}

// Sequence expands a range add request.
//
// The index is appended to the first label of name, keeping the width of
// startIndex as zero padding: "web.example.com" with start "01" yields
// web01, web02, ... The address template is the first address and each
// following entry takes the next address.
func Sequence(name, addressTemplate string, count int, startIndex string) ([]Pair, error) {
	if err := checkCount(count); err != nil {
		return nil, err
	}

	startIndex = strings.TrimSpace(startIndex)
	if startIndex == "" {
		startIndex = DefaultStartIndex
	}
	start, err := strconv.Atoi(startIndex)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: start index %q is not a non-negative integer", ErrInvalidRange, startIndex)
	}

	label, rest := splitFirstLabel(name)
	if label == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidRange)
	}

	addrs, err := AddressSequence(addressTemplate, count)
	if err != nil {
		return nil, err
	}

	width := len(startIndex)
	pairs := make([]Pair, count)
	for i := 0; i < count; i++ {
		pairs[i] = Pair{
			Name:    label + padIndex(start+i, width) + rest,
			Address: addrs[i],
		}
	}
	return pairs, nil
}

// NameSequence expands a range delete starting at a numbered hostname.
// The trailing digits of the first label are the start index.
func NameSequence(name string, count int) ([]string, error) {
	if err := checkCount(count); err != nil {
		return nil, err
	}

	label, rest := splitFirstLabel(name)
	digits := len(label) - len(strings.TrimRight(label, "0123456789"))
	if digits == 0 {
		return nil, fmt.Errorf("%w: %q does not end in a number", ErrInvalidRange, label)
	}

	base := label[:len(label)-digits]
	start, err := strconv.Atoi(label[len(label)-digits:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}

	names := make([]string, count)
	for i := 0; i < count; i++ {
		names[i] = base + padIndex(start+i, digits) + rest
	}
	return names, nil
}

// AddressSequence returns count consecutive addresses starting at first.
func AddressSequence(first string, count int) ([]string, error) {
	if err := checkCount(count); err != nil {
		return nil, err
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(first))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an IP address", ErrInvalidRange, first)
	}
	addr = addr.Unmap()

	out := make([]string, count)
	for i := 0; i < count; i++ {
		if !addr.IsValid() {
			return nil, fmt.Errorf("%w: range starting at %s overflows after %d entries", ErrInvalidRange, first, i)
		}
		out[i] = addr.String()
		addr = addr.Next()
	}
	return out, nil
}

func checkCount(count int) error {
	if count < 1 {
		return fmt.Errorf("%w: count must be at least 1, got %d", ErrInvalidRange, count)
	}
	if count > MaxRangeCount {
		return fmt.Errorf("%w: count %d exceeds the maximum of %d", ErrInvalidRange, count, MaxRangeCount)
	}
	return nil
}

// splitFirstLabel returns the first label and the remainder including its
// leading dot.
func splitFirstLabel(name string) (string, string) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i:]
	}
	return name, ""
}

func padIndex(n, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}
