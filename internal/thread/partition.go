// ABOUTME: Weight-budget partitioning of an event list into kept and overflow prefixes
// ABOUTME: Pure function used to fit a thread's history into a provider context budget

package thread

// PartitionResult splits an event list into the prefix that fits a weight
// budget and the suffix that overflows it. Order is preserved in both halves
// and len(Kept)+len(Overflow) always equals the input length.
type PartitionResult struct {
	Kept     []Event
	Overflow []Event
}

// Partition scans events front to back accumulating weight. An event is kept
// only while the running total after including it stays strictly below
// maxWeight; the first event that would reach or exceed the budget, and every
// event after it, overflows. A maxWeight <= 0 disables the budget and keeps
// everything.
func Partition(events []Event, maxWeight int) PartitionResult {
	if maxWeight <= 0 {
		return PartitionResult{Kept: events, Overflow: []Event{}}
	}
	total := 0
	for i, ev := range events {
		total += ev.Base().Weight()
		if total >= maxWeight {
			return PartitionResult{
				Kept:     events[:i],
				Overflow: events[i:],
			}
		}
	}
	return PartitionResult{Kept: events, Overflow: []Event{}}
}
