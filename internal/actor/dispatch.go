package actor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tenantd/tenantd/internal/link"
	"github.com/tenantd/tenantd/internal/memory"
)

// Argument shapes of the RPC surface. One call per gateway request; the
// gateway has already resolved the tenant identity.

type counterStepArgs struct {
	Name string `json:"name"`
	Step *int64 `json:"step,omitempty"` // default 1
	Min  *int64 `json:"min,omitempty"`
	Max  *int64 `json:"max,omitempty"`
}

type counterNameArgs struct {
	Name string `json:"name"`
}

type counterResetArgs struct {
	Name string `json:"name"`
	To   int64  `json:"to,omitempty"` // default 0
}

type lockAcquireArgs struct {
	Name        string `json:"name"`
	TTLSeconds  int    `json:"ttl_seconds"`
	HolderToken string `json:"holder_token,omitempty"`
}

type lockReleaseArgs struct {
	Name        string `json:"name"`
	HolderToken string `json:"holder_token"`
}

type lockExtendArgs struct {
	Name              string `json:"name"`
	HolderToken       string `json:"holder_token"`
	AdditionalSeconds int    `json:"additional_seconds"`
}

type lockNameArgs struct {
	Name string `json:"name"`
}

type queuePushArgs struct {
	Queue   string `json:"queue"`
	Payload string `json:"payload"`
}

type queueLeaseArgs struct {
	Queue             string `json:"queue"`
	VisibilitySeconds int    `json:"visibility_seconds,omitempty"` // default 60
}

type queueCompleteArgs struct {
	JobID      string `json:"job_id"`
	LeaseToken string `json:"lease_token"`
}

type queueFailArgs struct {
	JobID   string `json:"job_id"`
	Requeue bool   `json:"requeue,omitempty"`
}

type queueNameArgs struct {
	Queue string `json:"queue"`
}

type queuePurgeArgs struct {
	Queue string `json:"queue"`
	State string `json:"state,omitempty"`
}

type memoryStoreArgs struct {
	Key        string    `json:"key"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary,omitempty"`
	Embedding  []float32 `json:"embedding"`
	Tags       []string  `json:"tags,omitempty"`
	Type       string    `json:"type"`
	Importance int       `json:"importance,omitempty"`
}

type memorySearchArgs struct {
	Embedding []float32 `json:"embedding"`
	memory.SearchOptions
}

type memoryKeyArgs struct {
	Key string `json:"key"`
}

type linkCreateArgs struct {
	URL string `json:"url"`
	link.CreateOptions
}

type linkSlugArgs struct {
	Slug string `json:"slug"`
}

type linkClickArgs struct {
	Slug string `json:"slug"`
	link.ClickInfo
}

// Result shapes that are not the service types themselves.

type deletedResult struct {
	Deleted bool `json:"deleted"`
}

type releasedResult struct {
	Released bool `json:"released"`
}

type pushResult struct {
	JobID string `json:"job_id"`
}

type emptyResult struct {
	Empty bool `json:"empty"`
}

type completedResult struct {
	Completed bool `json:"completed"`
}

type failedResult struct {
	Failed bool `json:"failed"`
}

type purgedResult struct {
	Purged int64 `json:"purged"`
}

type storedResult struct {
	Stored bool   `json:"stored"`
	Key    string `json:"key"`
}

// dispatch routes one RPC method. It runs inside the actor goroutine, so
// every branch below observes a quiescent store. The background context
// reflects that accepted operations are not cancellable.
func (a *Actor) dispatch(method string, args json.RawMessage) (any, error) {
	ctx := context.Background()

	switch method {
	case "counter.increment":
		var p counterStepArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.counters.Increment(ctx, p.Name, stepOrDefault(p.Step), p.Min, p.Max)
	case "counter.decrement":
		var p counterStepArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.counters.Decrement(ctx, p.Name, stepOrDefault(p.Step), p.Min, p.Max)
	case "counter.get":
		var p counterNameArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.counters.Get(ctx, p.Name)
	case "counter.reset":
		var p counterResetArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.counters.Reset(ctx, p.Name, p.To)
	case "counter.list":
		return a.counters.List(ctx)
	case "counter.delete":
		var p counterNameArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		deleted, err := a.counters.Delete(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		return deletedResult{Deleted: deleted}, nil

	case "lock.acquire":
		var p lockAcquireArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.locks.Acquire(ctx, p.Name, p.TTLSeconds, p.HolderToken)
	case "lock.release":
		var p lockReleaseArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		released, err := a.locks.Release(ctx, p.Name, p.HolderToken)
		if err != nil {
			return nil, err
		}
		return releasedResult{Released: released}, nil
	case "lock.extend":
		var p lockExtendArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.locks.Extend(ctx, p.Name, p.HolderToken, p.AdditionalSeconds)
	case "lock.check":
		var p lockNameArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.locks.Check(ctx, p.Name)
	case "lock.list":
		return a.locks.List(ctx)

	case "queue.push":
		var p queuePushArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		id, err := a.jobs.Push(ctx, p.Queue, p.Payload)
		if err != nil {
			return nil, err
		}
		return pushResult{JobID: id}, nil
	case "queue.lease":
		var p queueLeaseArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		lease, err := a.jobs.Lease(ctx, p.Queue, p.VisibilitySeconds)
		if err != nil {
			return nil, err
		}
		if lease == nil {
			return emptyResult{Empty: true}, nil
		}
		return lease, nil
	case "queue.complete":
		var p queueCompleteArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		completed, err := a.jobs.Complete(ctx, p.JobID, p.LeaseToken)
		if err != nil {
			return nil, err
		}
		return completedResult{Completed: completed}, nil
	case "queue.fail":
		var p queueFailArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		failed, err := a.jobs.Fail(ctx, p.JobID, p.Requeue)
		if err != nil {
			return nil, err
		}
		return failedResult{Failed: failed}, nil
	case "queue.status":
		var p queueNameArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.jobs.Status(ctx, p.Queue)
	case "queue.purge":
		var p queuePurgeArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		n, err := a.jobs.Purge(ctx, p.Queue, p.State)
		if err != nil {
			return nil, err
		}
		return purgedResult{Purged: n}, nil

	case "memory.store":
		var p memoryStoreArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		err := a.memories.Put(ctx, memory.Record{
			Key:        p.Key,
			Content:    p.Content,
			Summary:    p.Summary,
			Embedding:  p.Embedding,
			Tags:       p.Tags,
			Type:       p.Type,
			Importance: p.Importance,
		})
		if err != nil {
			return nil, err
		}
		return storedResult{Stored: true, Key: p.Key}, nil
	case "memory.search":
		var p memorySearchArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.memories.Search(ctx, p.Embedding, p.SearchOptions)
	case "memory.get":
		var p memoryKeyArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.memories.Get(ctx, p.Key)
	case "memory.delete":
		var p memoryKeyArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		deleted, err := a.memories.Delete(ctx, p.Key)
		if err != nil {
			return nil, err
		}
		return deletedResult{Deleted: deleted}, nil
	case "memory.list":
		return a.memories.List(ctx)

	case "link.create":
		var p linkCreateArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.links.Create(ctx, p.URL, p.CreateOptions)
	case "link.get":
		var p linkSlugArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.links.Get(ctx, p.Slug)
	case "link.recordClick":
		var p linkClickArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.links.RecordClick(ctx, p.Slug, p.ClickInfo)
	case "link.stats":
		var p linkSlugArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return a.links.Stats(ctx, p.Slug)
	case "link.list":
		return a.links.List(ctx)
	case "link.delete":
		var p linkSlugArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		deleted, err := a.links.Delete(ctx, p.Slug)
		if err != nil {
			return nil, err
		}
		return deletedResult{Deleted: deleted}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
}

func stepOrDefault(step *int64) int64 {
	if step == nil {
		return 1
	}
	return *step
}
