// Package process supervises a long-running child process.
//
// The serve command uses it to run the virtual lab (`colourlab labsim`)
// next to the API when lab.simulator.managed is set. The Manager restarts
// the child after unexpected exits with doubling delays, kills it after
// three failed health checks in a row, and stops it with SIGTERM then
// SIGKILL to the whole process group.
//
//	mgr := process.NewManager(process.SimulatorConfig(exe, "127.0.0.1", 5000))
//	mgr.SetLogger(logger)
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
