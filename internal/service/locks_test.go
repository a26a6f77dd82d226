package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

func TestLocalTherapistLockerSerializes(t *testing.T) {
	locker := NewLocalTherapistLocker()

	release, err := locker.Acquire(context.Background(), "t1")
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), "t1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrLockUnavailable.Code, appErrors.FromError(err).Code)

	// Independent therapists never contend.
	otherRelease, err := locker.Acquire(context.Background(), "t2")
	require.NoError(t, err)
	otherRelease()

	release()
	release, err = locker.Acquire(context.Background(), "t1")
	require.NoError(t, err)
	release()
}

func TestLocalTherapistLockerUnderContention(t *testing.T) {
	locker := NewLocalTherapistLocker()

	var mu sync.Mutex
	acquired := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "t1")
			if err != nil {
				return
			}
			mu.Lock()
			acquired++
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	// At least one goroutine wins, and the lease is free afterwards.
	mu.Lock()
	assert.GreaterOrEqual(t, acquired, 1)
	mu.Unlock()
	release, err := locker.Acquire(context.Background(), "t1")
	require.NoError(t, err)
	release()
}
