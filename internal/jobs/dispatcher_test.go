package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/you/tg-mediadl/internal/types"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	info := &asynq.TaskInfo{Type: task.Type(), Payload: task.Payload()}
	for _, o := range opts {
		switch o.Type() {
		case asynq.TaskIDOpt:
			info.ID = o.Value().(string)
		case asynq.QueueOpt:
			info.Queue = o.Value().(string)
		case asynq.TimeoutOpt:
			info.Timeout = o.Value().(time.Duration)
		case asynq.MaxRetryOpt:
			info.MaxRetry = o.Value().(int)
		}
	}
	return info, nil
}

func TestEnqueueDownload(t *testing.T) {
	r := require.New(t)

	fe := &fakeEnqueuer{}
	d := NewDispatcher(fe, 3)
	id, err := d.Enqueue(context.Background(), DownloadPayload{
		Target: "https://youtu.be/abc123", FormatOrMode: types.FormatBestAudio, UserID: 1, ChatID: 2,
	}, 90*time.Second)
	r.NoError(err)
	r.Regexp(uuidRe, id)

	r.Len(fe.tasks, 1)
	r.Equal(TaskDownload, fe.tasks[0].Type())
	var p DownloadPayload
	r.NoError(json.Unmarshal(fe.tasks[0].Payload(), &p))
	r.Equal(id, p.JobID)
	r.Equal(types.FormatBestAudio, p.FormatOrMode)

	got := map[asynq.OptionType]any{}
	for _, o := range fe.opts[0] {
		got[o.Type()] = o.Value()
	}
	r.Equal(id, got[asynq.TaskIDOpt])
	r.Equal(QueueDownloads, got[asynq.QueueOpt])
	r.Equal(90*time.Second, got[asynq.TimeoutOpt])
	r.Equal(3, got[asynq.MaxRetryOpt])
}

func TestEnqueueDefaultsAndUniqueIDs(t *testing.T) {
	r := require.New(t)

	fe := &fakeEnqueuer{}
	d := NewDispatcher(fe, -1)
	a, err := d.Enqueue(context.Background(), DownloadPayload{Target: "x"}, 0)
	r.NoError(err)
	b, err := d.EnqueueTrim(context.Background(), TrimPayload{RetainID: "r"}, 0)
	r.NoError(err)
	r.NotEqual(a, b)
	r.Equal(TaskTrim, fe.tasks[1].Type())
	for _, o := range fe.opts[1] {
		switch o.Type() {
		case asynq.TimeoutOpt:
			r.Equal(DefaultTimeout, o.Value())
		case asynq.MaxRetryOpt:
			r.Equal(DefaultMaxRetry, o.Value())
		}
	}
}

func TestEnqueueError(t *testing.T) {
	d := NewDispatcher(&fakeEnqueuer{err: errors.New("redis down")}, 0)
	id, err := d.Enqueue(context.Background(), DownloadPayload{Target: "x"}, time.Minute)
	require.Error(t, err)
	require.Empty(t, id)
	require.Contains(t, err.Error(), "redis down")
}
