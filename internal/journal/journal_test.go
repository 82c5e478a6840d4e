package journal_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loandesk/internal/journal"
	"loandesk/internal/testutil"
)

type renewed struct {
	RenewalCount int `json:"renewal_count"`
}

func TestRecordAndHistory(t *testing.T) {
	j := journal.New(testutil.OpenDB(t))
	ctx := context.Background()
	loanID := uuid.New()

	require.NoError(t, j.Record(ctx, loanID, "LoanCreated", map[string]string{"loan_id": loanID.String()}))
	require.NoError(t, j.Record(ctx, loanID, "LoanRenewed", renewed{RenewalCount: 1}))

	version, err := j.CurrentVersion(ctx, loanID)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	entries, err := j.History(ctx, loanID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "LoanCreated", entries[0].EventType)
	assert.Equal(t, 1, entries[0].Version)
	assert.Equal(t, "LoanRenewed", entries[1].EventType)

	var data renewed
	require.NoError(t, json.Unmarshal(entries[1].EventData, &data))
	assert.Equal(t, 1, data.RenewalCount)
}

func TestAppendRejectsStaleVersion(t *testing.T) {
	j := journal.New(testutil.OpenDB(t))
	ctx := context.Background()
	loanID := uuid.New()

	entry := journal.Entry{EventType: "LoanCreated", EventData: json.RawMessage(`{}`)}
	require.NoError(t, j.Append(ctx, loanID, 0, []journal.Entry{entry}))
	assert.ErrorIs(t, j.Append(ctx, loanID, 0, []journal.Entry{entry}), journal.ErrConcurrencyConflict)
}

func TestConcurrentAppendsKeepVersionsUnique(t *testing.T) {
	j := journal.New(testutil.OpenDB(t))
	ctx := context.Background()
	loanID := uuid.New()

	const writers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := j.Append(ctx, loanID, 0, []journal.Entry{{EventType: "LoanCreated", EventData: json.RawMessage(`{}`)}})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, journal.ErrConcurrencyConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	entries, err := j.History(ctx, loanID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConcurrentRecordsAreAllKept(t *testing.T) {
	j := journal.New(testutil.OpenDB(t))
	ctx := context.Background()
	loanID := uuid.New()

	const writers = 4
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, j.Record(ctx, loanID, "LoanRenewed", renewed{RenewalCount: i}))
		}(i)
	}
	wg.Wait()

	entries, err := j.History(ctx, loanID)
	require.NoError(t, err)
	require.Len(t, entries, writers)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Version)
	}
}
