// Package sim is the core distributed stepped-dataflow execution engine.
//
// # Reading Guide
//
// Start with these three files to understand the execution kernel:
//   - chunk.go: one rank's partition — ordered operators, owned signals, probes
//   - exchange.go: the Send/Recv/Wait communication triad and its one-step pipeline
//   - simulator.go: run lifecycle — build, finalize, lockstep stepping, probe gather
//
// # Architecture
//
// A run spans N cooperating ranks joined by a comm.Communicator. Each rank
// owns exactly one Chunk: a fixed total order of Operators over Signals the
// chunk allocated. One step invokes every operator once, in order. Cross-rank
// data moves through non-blocking transfers issued by SendOp/RecvOp and
// completed one step later by the paired WaitOp; the build-time operator
// order is the only synchronization — there are no locks and no runtime
// ordering checks. Sub-packages:
//   - sim/comm/: rank-addressed transport (in-process group, TCP network)
//   - sim/trace/: per-step timing collection
//
// # Correctness contract
//
// Within a chunk's order, the Wait for tag T precedes every operator that
// touches T's signal in the current step, and the Send/Recv for T follows
// the operators that produced or consumed the previous step's value. This is
// established by the network description at build time and never revalidated
// while stepping: a misordered build corrupts buffer contents silently
// instead of failing. Tests cover the invariant; the engine does not.
package sim
