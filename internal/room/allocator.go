package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
)

// Room codes are short enough to read over the phone: six decimal digits,
// never starting with zero. Collisions with live rooms are handled by
// re-rolling, which terminates quickly as long as the registry stays far
// below the 900k-code namespace.
const (
	idSpaceMin  = 100000
	idSpaceMax  = 999999
	idSpaceSize = idSpaceMax - idSpaceMin + 1
)

var idSpaceBig = big.NewInt(idSpaceSize)

func newRoomID() (string, error) {
	n, err := rand.Int(rand.Reader, idSpaceBig)
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	return strconv.FormatInt(idSpaceMin+n.Int64(), 10), nil
}
