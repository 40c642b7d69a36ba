// SPDX-License-Identifier: AGPL-3.0-or-later

package mailbox_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"melrun/internal/host/mailbox"
)

func TestEnqueueAndKick_FIFO(t *testing.T) {
	reg := mailbox.NewRegistry()
	now := time.Now()

	reg.EnqueueAndKick("key-1", mailbox.Job{Kind: mailbox.JobStartIntent, Payload: 1}, now)
	reg.EnqueueAndKick("key-1", mailbox.Job{Kind: mailbox.JobContinueCompute, Payload: 2}, now)

	box, ok := reg.Box("key-1")
	require.True(t, ok)

	j1, ok := box.Dequeue()
	require.True(t, ok)
	require.Equal(t, mailbox.JobStartIntent, j1.Kind)

	j2, ok := box.Dequeue()
	require.True(t, ok)
	require.Equal(t, mailbox.JobContinueCompute, j2.Kind)

	_, ok = box.Dequeue()
	require.False(t, ok)
}

func TestSweep_EvictsOnlyIdleEmptyBoxes(t *testing.T) {
	reg := mailbox.NewRegistry()
	now := time.Now()

	reg.EnqueueAndKick("idle-key", mailbox.Job{Kind: mailbox.JobStartIntent}, now)
	box, _ := reg.Box("idle-key")
	_, _ = box.Dequeue()

	reg.EnqueueAndKick("busy-key", mailbox.Job{Kind: mailbox.JobStartIntent}, now)

	evicted := reg.Sweep(now.Add(time.Hour), time.Minute)
	require.Equal(t, []string{"idle-key"}, evicted, "only the empty, idle box should be evicted; busy-key still has a queued job")
}
