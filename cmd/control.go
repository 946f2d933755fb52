// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/device"
	"github.com/Thermoquad/bitastat/pkg/log"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling a BITalino",
	Long: `Control a BITalino via an interactive terminal UI.

This command provides a TUI for querying and controlling a device connected
via serial port, WebSocket bridge or the simulator.

Features:
  - Firmware version and state queries (idle mode)
  - Low-battery threshold setting (idle mode)
  - Start and stop acquisition with the configured rate and channels
  - Digital output control (O1, O2) during acquisition
  - Live statistics, latest sample and clock drift
  - Event logging

Tab switches between the action list and the battery threshold input. Arrow
keys navigate the action list and Enter runs the selected action.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// controller serializes device commands issued from the TUI and owns the
// acquisition goroutine
type controller struct {
	conn     Connection
	connInfo string
	dev      *device.Device
	p        *tea.Program

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	o1, o2 bool
}

func newController(conn Connection, connInfo string) *controller {
	return &controller{conn: conn, connInfo: connInfo, dev: device.New(conn)}
}

func runControl(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	// Diagnostics on stderr would corrupt the alternate screen
	log.SetLevelValue(log.ErrorLevel)

	c := newController(conn, connInfo)
	m := initialControlModel(c)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	c.p = p

	_, err = p.Run()
	c.close()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// actionResultMsg reports the outcome of a device command
type actionResultMsg struct {
	action  controlAction
	message string
	err     error
	version string
	state   *device.State
	labels  []string
}

type controlCycleMsg struct {
	cycle bitalino.Cycle
}

type acquisitionStoppedMsg struct {
	err error
}

// run returns a command executing fn under the controller lock
func (c *controller) run(action controlAction, fn func() actionResultMsg) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		defer c.mu.Unlock()
		res := fn()
		res.action = action
		return res
	}
}

func (c *controller) version() tea.Cmd {
	return c.run(actionVersion, func() actionResultMsg {
		v, err := c.dev.Version()
		return actionResultMsg{version: v, err: err, message: "Version: " + v}
	})
}

func (c *controller) state() tea.Cmd {
	return c.run(actionState, func() actionResultMsg {
		s, err := c.dev.State()
		if err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{state: &s, message: fmt.Sprintf("Battery %.2f%%", s.BatteryPercent())}
	})
}

func (c *controller) setBattery(threshold int) tea.Cmd {
	return c.run(actionBattery, func() actionResultMsg {
		if err := c.dev.SetBattery(threshold); err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{message: fmt.Sprintf("Battery threshold set to %d", threshold)}
	})
}

func (c *controller) start() tea.Cmd {
	return c.run(actionStart, func() actionResultMsg {
		if c.dev.Started() {
			return actionResultMsg{err: device.ErrNotIdle}
		}
		session, err := startDevice(c.dev)
		if err != nil {
			return actionResultMsg{err: err}
		}

		reader := NewReader(c.dev, session, cfg.PollInterval())
		reader.SetQuiet(true)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		c.cancel, c.done = cancel, done
		c.o1, c.o2 = false, false

		go func() {
			defer close(done)
			err := reader.Run(ctx, func(cycle *bitalino.Cycle) error {
				c.p.Send(controlCycleMsg{cycle: *cycle})
				return nil
			})
			if err != nil {
				c.p.Send(acquisitionStoppedMsg{err: err})
			}
		}()

		return actionResultMsg{
			message: fmt.Sprintf("Acquiring %v at %d Hz", session.Channels().Names(), session.Rate()),
			labels:  session.Labels(),
		}
	})
}

// halt stops the acquisition goroutine and the device; c.mu must be held
func (c *controller) halt() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel, c.done = nil, nil
	}
	if !c.dev.Started() {
		return device.ErrNotAcquiring
	}
	return c.dev.Stop()
}

func (c *controller) stop() tea.Cmd {
	return c.run(actionStop, func() actionResultMsg {
		if err := c.halt(); err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{message: "Acquisition stopped"}
	})
}

func (c *controller) toggle(action controlAction) tea.Cmd {
	return c.run(action, func() actionResultMsg {
		o1, o2 := c.o1, c.o2
		if action == actionToggleO1 {
			o1 = !o1
		} else {
			o2 = !o2
		}
		if err := c.dev.Trigger(o1, o2); err != nil {
			return actionResultMsg{err: err}
		}
		c.o1, c.o2 = o1, o2
		return actionResultMsg{message: fmt.Sprintf("Outputs O1=%s O2=%s", onOff(o1), onOff(o2))}
	})
}

func (c *controller) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil || c.dev.Started() {
		c.halt()
	}
	c.conn.Close()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
