package audit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendChainsEntries(t *testing.T) {
	j := NewJournal()

	first := j.Append("opened account 1")
	second := j.Append("transfer TX-1 30.0000 KRW")

	assert.Equal(t, uint64(0), first.Seq)
	assert.Equal(t, genesisHash, first.PreviousHash)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestVerify(t *testing.T) {
	j := NewJournal()
	for i := 0; i < 10; i++ {
		j.Append("entry")
	}

	entries := j.Entries()
	require.True(t, Verify(entries))

	// Any tampering breaks the chain.
	entries[4].Payload = "tampered"
	assert.False(t, Verify(entries))
}

func TestVerifyEmpty(t *testing.T) {
	assert.True(t, Verify(nil))
}

func TestConcurrentAppend(t *testing.T) {
	j := NewJournal()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Append("concurrent entry")
		}()
	}
	wg.Wait()

	entries := j.Entries()
	require.Len(t, entries, 50)
	assert.True(t, Verify(entries))
}
