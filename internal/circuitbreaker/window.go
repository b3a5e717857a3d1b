package circuitbreaker

import "time"

const maxWindowSeconds = 60

// slot holds the attempt and weighted failure counts for one second.
type slot struct {
	failures float64
	attempts int
}

// window is a ring of one-second slots covering the last size seconds.
type window struct {
	slots   [maxWindowSeconds]slot
	size    int
	head    int   // slot for headSec
	headSec int64 // unix seconds of head, 0 before the first record
}

func newWindow(seconds int) window {
	if seconds <= 0 || seconds > maxWindowSeconds {
		seconds = maxWindowSeconds
	}
	return window{size: seconds}
}

// rotate moves head to sec, zeroing the slots skipped over.
func (w *window) rotate(sec int64) {
	if w.headSec == 0 {
		w.headSec = sec
		return
	}
	gap := sec - w.headSec
	if gap <= 0 {
		return
	}
	for i := range min(int(gap), w.size) {
		w.slots[(w.head+1+i)%w.size] = slot{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headSec = sec
}

func (w *window) record(weight float64, now time.Time) {
	w.rotate(now.Unix())
	w.slots[w.head].attempts++
	w.slots[w.head].failures += weight
}

// ratio returns the weighted failure ratio and the attempt count in the window.
func (w *window) ratio(now time.Time) (float64, int) {
	w.rotate(now.Unix())
	var failures float64
	var attempts int
	for i := range w.size {
		failures += w.slots[i].failures
		attempts += w.slots[i].attempts
	}
	if attempts == 0 {
		return 0, 0
	}
	return failures / float64(attempts), attempts
}

func (w *window) reset() {
	*w = newWindow(w.size)
}
