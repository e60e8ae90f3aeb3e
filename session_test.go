package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalSession_Expired(t *testing.T) {
	now := time.Now()

	var nilSession *PrincipalSession
	assert.True(t, nilSession.Expired(now))

	assert.False(t, (&PrincipalSession{}).Expired(now), "sessions without expiry never expire locally")
	assert.False(t, (&PrincipalSession{ExpiresAt: now.Add(time.Minute)}).Expired(now))
	assert.True(t, (&PrincipalSession{ExpiresAt: now.Add(-time.Minute)}).Expired(now))
}

func TestPrincipalNotifier(t *testing.T) {
	n := newPrincipalNotifier()

	var first, second []*Principal
	unsubFirst := n.subscribe(func(p *Principal) { first = append(first, p) })
	unsubSecond := n.subscribe(func(p *Principal) { second = append(second, p) })

	user := testPrincipal("user@example.com", RoleUser)
	n.notify(user)
	assert.Len(t, first, 1)
	assert.Len(t, second, 1)

	unsubFirst()
	n.notify(nil)
	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
	assert.Nil(t, second[1])

	// Unsubscribing twice is harmless.
	unsubFirst()
	unsubSecond()
	n.notify(user)
	assert.Len(t, second, 2)

	// A nil listener is ignored.
	assert.NotPanics(t, func() { n.subscribe(nil)() })
}
