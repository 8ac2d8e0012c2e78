// Package devctx manages the controller-visible device state: slot,
// endpoint and input control contexts, the Device Context Base Address
// Array, per-slot transfer rings and the scratchpad buffer array.
//
// Context views are thin accessors over DMA buffers; every field the
// engine uses has a named getter and setter. A [List] owns one output
// context and one input context per slot in 0..MaxSlots, allocated once at
// construction so that DCBAA entries never move:
//
//	DCBAA[0]     scratchpad buffer array (or slot 0's output context)
//	DCBAA[slot]  output device context of slot
//
// Output contexts hold the slot context followed by 31 endpoint contexts
// indexed by DCI. Input contexts are prefixed by an input control context.
package devctx
