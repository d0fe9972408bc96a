package main

// Block is the demo host payload cmd/mlmnode runs the engine over: a
// minimal hash-linked chain entry. A real host supplies its own T and
// types.Consensus[T]; this exists so the engine is runnable standalone.
type Block struct {
	Height   uint64
	PrevHash [32]byte
	Data     []byte
}
