package proc

import (
	"github.com/shirou/gopsutil/v4/process"
)

// Handle reports liveness of the browser process. A nil Handle means the
// process is externally managed and cannot be observed.
type Handle interface {
	PID() int
	// Crashed reports whether the process is gone or a zombie, plus the
	// status string observed.
	Crashed() (bool, string)
}

type sysHandle struct {
	pid int32
}

// FromPID returns a Handle backed by the operating system process table.
func FromPID(pid int) Handle {
	return &sysHandle{pid: int32(pid)}
}

func (h *sysHandle) PID() int { return int(h.pid) }

func (h *sysHandle) Crashed() (bool, string) {
	p, err := process.NewProcess(h.pid)
	if err != nil {
		return true, "gone"
	}
	statuses, err := p.Status()
	if err != nil {
		running, rerr := p.IsRunning()
		if rerr != nil || !running {
			return true, "gone"
		}
		return false, "running"
	}
	for _, s := range statuses {
		if s == process.Zombie {
			return true, s
		}
	}
	if len(statuses) > 0 {
		return false, statuses[0]
	}
	return false, "running"
}

// Static is a fixed-answer Handle for tests and externally supervised
// browsers.
type Static struct {
	ID       int
	Dead     bool
	StatusID string
}

func (s *Static) PID() int { return s.ID }

func (s *Static) Crashed() (bool, string) {
	status := s.StatusID
	if status == "" {
		if s.Dead {
			status = "gone"
		} else {
			status = "running"
		}
	}
	return s.Dead, status
}
