package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyExpiring(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{}
	svc := NewExpirationService(db, newNotifier(t, sender), 3, "https://app.fleetmaster.co")
	svc.now = func() time.Time { return fixedNow }

	inWindow := fixedNow.AddDate(0, 0, 2)
	edge := fixedNow.AddDate(0, 0, 3)
	tooFar := fixedNow.AddDate(0, 0, 10)
	gone := fixedNow.Add(-time.Hour)

	soon := createUser(t, db, true)
	createKey(t, db, &soon.ID, plans.Pro, models.KeyStatusActive, &inWindow)
	atEdge := createUser(t, db, true)
	createKey(t, db, &atEdge.ID, plans.FreeTrial, models.KeyStatusActive, &edge)
	far := createUser(t, db, true)
	createKey(t, db, &far.ID, plans.Basico, models.KeyStatusActive, &tooFar)
	lapsed := createUser(t, db, true)
	createKey(t, db, &lapsed.ID, plans.Basico, models.KeyStatusActive, &gone)
	replaced := createUser(t, db, true)
	createKey(t, db, &replaced.ID, plans.Basico, models.KeyStatusExpired, &inWindow)
	// unbound keys have no owner to notify
	createKey(t, db, nil, plans.Pro, models.KeyStatusActive, &inWindow)

	sent, err := svc.NotifyExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	var recipients []string
	for _, m := range sender.sent {
		recipients = append(recipients, m.to)
	}
	assert.ElementsMatch(t, []string{soon.Email, atEdge.Email}, recipients)
}

func TestNotifyExpiringContinuesOnFailure(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{err: errors.New("mailbox full")}
	svc := NewExpirationService(db, newNotifier(t, sender), 3, "")
	svc.now = func() time.Time { return fixedNow }

	due := fixedNow.AddDate(0, 0, 1)
	for i := 0; i < 3; i++ {
		u := createUser(t, db, true)
		createKey(t, db, &u.ID, plans.Pro, models.KeyStatusActive, &due)
	}

	sent, err := svc.NotifyExpiring(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 3, sender.count())
}
