/*
Package types defines the data model shared by every layer of dispatchd:
the wire codec, the ready/dead-letter queues, the worker registry, and
the persistence stores.

# Core Types

Task is the unit of dispatchable work. It carries an opaque Kind (a
capability tag such as CheckPrime or HashText), a string Payload, and
lifecycle bookkeeping: RetryCount, CreatedAt, LastRetryAt, Status and
StatusUpdatedAt. Task.Clone returns a deep-enough copy (LastRetryAt is
copied, not aliased) so a caller can hold a Task outside a queue or
store without racing the owner.

Status is the lifecycle state of a Task:

	Pending → InProgress → Completed | Failed   (worker Result)
	          InProgress → Pending               (worker lost, RetryCount < max)
	          InProgress → DeadLetter            (worker lost, RetryCount == max)
	Pending → DeadLetter                        (no registered worker claims the Kind)

Completed and Failed are terminal; only the operator's reprocess command
moves a DeadLetter task back to Pending.

WorkerStatus and WorkerInfo describe a connected worker handle from the
outside: WorkerInfo is a snapshot safe to serialize or print without
holding the handle's internal lock.

Statistics is a point-in-time tally recomputed on demand from a store's
records; it is never itself the authoritative record.

# Thread Safety

Task values are not safe for concurrent mutation. Queues hand out the
same *Task pointers they hold, not copies; callers that need to mutate
a Task they don't own should Clone it first.
*/
package types
