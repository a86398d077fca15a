package polls

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/areopag-vote/backend/internal/models"
)

func TestDuplicateMembers(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	assert.Empty(t, DuplicateMembers(nil, nil))
	assert.Empty(t, DuplicateMembers([]uuid.UUID{a, b}, []uuid.UUID{c}))
	assert.Equal(t, []uuid.UUID{b}, DuplicateMembers([]uuid.UUID{a, b}, []uuid.UUID{b, c}))
	assert.Len(t, DuplicateMembers([]uuid.UUID{a, b}, []uuid.UUID{b, a}), 2)
}

func TestSeedStatus(t *testing.T) {
	assert.Equal(t, models.DeliveryLocal, SeedStatus(models.VoterLocal))
	assert.Equal(t, models.DeliveryReady, SeedStatus(models.VoterRemote))
}

func TestSeedingCoversEveryMember(t *testing.T) {
	req := &SaveRequest{Title: "Ivanov dissertation defense"}
	for i := 0; i < 10; i++ {
		req.VoterLocal = append(req.VoterLocal, uuid.New())
	}
	for i := 0; i < 4; i++ {
		req.VoterRemote = append(req.VoterRemote, uuid.New())
	}

	members := buildMembers(req)
	require.Len(t, members, 14)

	counts := make(map[models.DeliveryStatus]int)
	for _, m := range members {
		counts[SeedStatus(m.Kind)]++
	}
	assert.Equal(t, 10, counts[models.DeliveryLocal])
	assert.Equal(t, 4, counts[models.DeliveryReady])
}

func TestMembershipErrorNamesVoters(t *testing.T) {
	err := &MembershipError{Names: []string{"Petrov P.P.", "Sidorova S.S."}}
	assert.Equal(t,
		"voters cannot attend both in the room and remotely: Petrov P.P., Sidorova S.S.",
		err.Error())
}
