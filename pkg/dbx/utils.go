package dbx

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/gdp-tracker/gdp-backend/pkg/logx"
)

// GenerateRandomInt64Id returns a random, non-zero 63-bit id, used to tag request scopes in the logs.
func GenerateRandomInt64Id() int64 {
	var idNum uint64

	for idNum == 0 {
		err := binary.Read(rand.Reader, binary.BigEndian, &idNum)
		if err != nil {
			logx.GetLogger().LogError(context.TODO(), "error generating 64-bit random ID", err)
			continue
		}

		idNum %= uint64(math.MaxInt64)
	}

	return int64(idNum)
}
