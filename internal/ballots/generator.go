package ballots

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/areopag-vote/backend/internal/models"
)

const (
	sixDigitLength = 6
	// mintAttempts bounds the collision-retry loop; exceeding it is a
	// terminal error, never an indefinite retry.
	mintAttempts = 1000
)

var ten = big.NewInt(10)

// GenerateValue draws one candidate private-key value for the method.
// The length check guards against a misbehaving random source.
func GenerateValue(method models.KeyMethod) (string, error) {
	switch method {
	case models.KeyMethodSixDigits:
		v, err := secureDigits(sixDigitLength)
		if err != nil {
			return "", fmt.Errorf("draw digits: %w", err)
		}
		if len(v) != sixDigitLength {
			return "", ErrInvalidGeneratorOutput
		}
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKeyMethod, method)
	}
}

func secureDigits(k int) (string, error) {
	buf := make([]byte, k)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = '0' + byte(n.Int64())
	}
	return string(buf), nil
}

// shuffleValues permutes printed slips with the CSPRNG so slip order cannot
// be matched back to the ledger's voter order.
func shuffleValues(values []string) error {
	for i := len(values) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		j := int(n.Int64())
		values[i], values[j] = values[j], values[i]
	}
	return nil
}
