// Package imagename encodes and decodes the expiry carried by a managed
// image's name.
//
// A managed image is named AMI_<instanceId>_<epochMillis>. The name is the
// authoritative expiry record: it is read back on every run to decide
// whether the image has outlived its retention. The same value is also
// written to the ExpiryTagKey tag for humans browsing the console.
package imagename

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Prefix is the first token of every managed image name.
	Prefix = "AMI"

	// ExpiryTagKey is the tag carrying the same expiry as the name.
	ExpiryTagKey = "isExpireOn"

	separator = "_"
)

// ErrMalformed is returned for names that do not carry an expiry.
var ErrMalformed = errors.New("malformed image name")

// Name is the decoded form of a managed image name.
type Name struct {
	InstanceID   string
	ExpiryMillis int64
}

// New builds a Name for an image of instanceID expiring at expiry.
func New(instanceID string, expiry time.Time) Name {
	return Name{InstanceID: instanceID, ExpiryMillis: expiry.UnixMilli()}
}

// Format returns AMI_<instanceID>_<expiry in epoch ms>.
func Format(instanceID string, expiry time.Time) string {
	return New(instanceID, expiry).String()
}

// FormatMillis renders t as the epoch-millisecond string used in names and tags.
func FormatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Parse decodes a managed image name. Tokens after the expiry are ignored.
func Parse(name string) (Name, error) {
	tokens := strings.Split(name, separator)
	if len(tokens) < 3 {
		return Name{}, fmt.Errorf("%w: %q has %d tokens", ErrMalformed, name, len(tokens))
	}
	if tokens[0] != Prefix {
		return Name{}, fmt.Errorf("%w: %q does not start with %s", ErrMalformed, name, Prefix)
	}
	if tokens[1] == "" {
		return Name{}, fmt.Errorf("%w: %q has no instance id", ErrMalformed, name)
	}

	ms, err := strconv.ParseInt(tokens[2], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("%w: %q expiry: %v", ErrMalformed, name, err)
	}

	return Name{InstanceID: tokens[1], ExpiryMillis: ms}, nil
}

// String is the inverse of Parse.
func (n Name) String() string {
	return Prefix + separator + n.InstanceID + separator + strconv.FormatInt(n.ExpiryMillis, 10)
}

// Expiry returns the encoded expiry as a time.
func (n Name) Expiry() time.Time {
	return time.UnixMilli(n.ExpiryMillis)
}

// ExpiredAt reports whether the expiry is strictly before now. An image
// whose expiry equals now is still alive.
func (n Name) ExpiredAt(now time.Time) bool {
	return n.ExpiryMillis < now.UnixMilli()
}
