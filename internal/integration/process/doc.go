// Package process starts and supervises the child processes buildninja
// spawns: ninja target queries and ninja builds.
//
// # Supervisor
//
//	supervisor := process.NewSupervisor()
//	defer supervisor.Shutdown(5 * time.Second)
//
//	out, err := supervisor.Output(ctx, "ninja", []string{"-C", "out", "-t", "targets"}, root)
//
// Output captures standard output and reports failures as *CommandError.
// Start exposes the output streams for callers that process them line by
// line.
//
// Commands are never run through a shell. Each process gets a UUID, runs in
// its own process group, and receives SIGTERM when its context ends, then
// SIGKILL after the grace period.
package process
