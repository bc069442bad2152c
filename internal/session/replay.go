package session

import "sync"

// replayWindow is a sliding-window replay guard for AEAD receive nonces,
// adapted from the sequence-tracking approach used for handshake replay
// protection elsewhere in the pack: a bitmap covers the last size
// nonces below the highest one accepted, so out-of-order UDP delivery
// within the window is tolerated but a repeat is rejected (§4.3, §5).
type replayWindow struct {
	mu     sync.Mutex
	size   uint64
	top    uint64
	seeded bool
	bitmap []uint64
}

func newReplayWindow(size uint64) *replayWindow {
	if size == 0 {
		size = 128
	}
	return &replayWindow{size: size, bitmap: make([]uint64, (size+63)/64)}
}

// accept reports whether nonce should be accepted. A nonce above the highest
// one accepted so far is accepted and slides the window forward. A lower
// nonce is accepted if it falls inside the window and has not been seen
// before; a repeated nonce, or one older than the window, is rejected. A
// nonce below the last accepted one is not rejected for that reason alone.
func (w *replayWindow) accept(nonce uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.seeded {
		w.seeded = true
		w.top = nonce
		w.setBit(0)
		return true
	}

	if nonce > w.top {
		shift := nonce - w.top
		w.shift(shift)
		w.top = nonce
		w.setBit(0)
		return true
	}

	offset := w.top - nonce
	if offset >= w.size {
		return false // too old, outside the window
	}
	if w.getBit(offset) {
		return false // replay
	}
	w.setBit(offset)
	return true
}

func (w *replayWindow) shift(by uint64) {
	if by >= w.size {
		for i := range w.bitmap {
			w.bitmap[i] = 0
		}
		return
	}
	words := by / 64
	bits := by % 64
	if words > 0 {
		for i := len(w.bitmap) - 1; i >= int(words); i-- {
			w.bitmap[i] = w.bitmap[i-int(words)]
		}
		for i := 0; i < int(words); i++ {
			w.bitmap[i] = 0
		}
	}
	if bits > 0 {
		var carry uint64
		for i := 0; i < len(w.bitmap); i++ {
			next := w.bitmap[i] >> (64 - bits)
			w.bitmap[i] = (w.bitmap[i] << bits) | carry
			carry = next
		}
	}
}

func (w *replayWindow) setBit(offset uint64) {
	if offset >= w.size {
		return
	}
	w.bitmap[offset/64] |= 1 << (offset % 64)
}

func (w *replayWindow) getBit(offset uint64) bool {
	if offset >= w.size {
		return false
	}
	return w.bitmap[offset/64]&(1<<(offset%64)) != 0
}
