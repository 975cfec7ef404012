// Copyright © 2024 Vaxry
//
// Permission is hereby granted, free of charge, to any person obtaining a
// copy of this software and associated documentation files (the "Software"),
// to deal in the Software without restriction, including without limitation
// the rights to use, copy, modify, merge, publish, distribute, sublicense,
// and/or sell copies of the Software, and to permit persons to whom the
// Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice (including the next
// paragraph) shall be included in all copies or substantial portions of the
// Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
// THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR
// OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE,
// ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR
// OTHER DEALINGS IN THE SOFTWARE.

package hyprctm

import (
	"fmt"

	"codeberg.org/tesselslate/wl"
)

// # Manager to apply CTMs to outputs
//
// This object is a manager which offers requests to apply color transform
// matrices to outputs. Only one client can bind this interface at a time.
type CtmControlManagerV1 wl.Object

// Note: Do not modify this variable.
var CtmControlManagerV1Interface = wl.Interface{
	ErrorStr: errorStrCtmControlManagerV1,
	Dispatch: []func(wl.Object, wl.Message) error{dispatchCtmControlManagerV1Blocked},
	NumFd:    []int{0},
	Name:     "hyprland_ctm_control_manager_v1",
}

type CtmControlManagerV1Listener struct {
	// # Controller is blocked
	//
	// This event is sent if another manager was bound by any client at the
	// time the current manager was bound. Any set_ctm_for_output requests
	// will be ignored.
	//
	// Upon receiving this event, the client should destroy the manager.
	Blocked func(data any, self CtmControlManagerV1) error

	// Unexported. Forbids unkeyed struct initialization.
	_ struct{}
}

// SetListener sets the event listener for the CtmControlManagerV1. Overwriting an existing
// listener is illegal and will result in a panic.
func (o *CtmControlManagerV1) SetListener(listener CtmControlManagerV1Listener, data any) {
	(*wl.Object)(o).SetListener(listener, data)
}

type CtmControlManagerV1Error int32

const (
	CtmControlManagerV1ErrorInvalidMatrix CtmControlManagerV1Error = 0 // The matrix values are invalid
)

const strCtmControlManagerV1Error = "invalid_matrix"

var mapCtmControlManagerV1Error = map[CtmControlManagerV1Error]string{0: strCtmControlManagerV1Error[0:14]}

func (v CtmControlManagerV1Error) String() string {
	if str, ok := mapCtmControlManagerV1Error[v]; ok {
		return str
	}
	return fmt.Sprintf("CtmControlManagerV1Error(%d)", v)
}

func errorStrCtmControlManagerV1(code uint32) string {
	return CtmControlManagerV1Error(code).String()
}

func dispatchCtmControlManagerV1Blocked(O wl.Object, M wl.Message) error {

	L, K := O.GetListener().(CtmControlManagerV1Listener)
	if !K && O.Debug() {
		M.DebugEvent(O.GetDisplay(), true, "blocked")
		return nil
	}

	F := L.Blocked
	if O.Debug() {
		M.DebugEvent(O.GetDisplay(), F == nil, "blocked")
	}

	var R error
	if F != nil {
		R = F(O.GetData(), CtmControlManagerV1(O))
	}
	return R
}

// # Destroy the manager
//
// All CTMs that are set will be reset immediately.
func (S *CtmControlManagerV1) Destroy() {
	O := (*wl.Object)(S)
	M := wl.NewMessage(0)
	M.WriteHeader(O.GetId(), 0)
	O.Enqueue(M)

	if O.Debug() {
		M.DebugRequest(O.GetDisplay(), "destroy")
	}
	O.Destroy()
}

// # Set the CTM of an output
//
// Set a CTM for a wl_output.
//
// This state is not applied immediately; clients must call .commit to apply
// any pending changes.
//
// The provided values describe a 3x3 Row-Major CTM with values in the range
// of [0, ∞).
//
// Passing values outside of the range will raise an invalid_matrix error.
func (S *CtmControlManagerV1) SetCtmForOutput(output wl.Object, mat0, mat1, mat2, mat3, mat4, mat5, mat6, mat7, mat8 float64) {
	O := (*wl.Object)(S)
	M := wl.NewMessage(0)
	M.WriteObject(output, false)
	M.WriteFixed(mat0)
	M.WriteFixed(mat1)
	M.WriteFixed(mat2)
	M.WriteFixed(mat3)
	M.WriteFixed(mat4)
	M.WriteFixed(mat5)
	M.WriteFixed(mat6)
	M.WriteFixed(mat7)
	M.WriteFixed(mat8)
	M.WriteHeader(O.GetId(), 1)
	O.Enqueue(M)

	if O.Debug() {
		M.DebugRequest(O.GetDisplay(), "set_ctm_for_output", output, mat0, mat1, mat2, mat3, mat4, mat5, mat6, mat7, mat8)
	}
}

// # Commit the pending state
//
// Commits the pending state(s) set by set_ctm_for_output.
func (S *CtmControlManagerV1) Commit() {
	O := (*wl.Object)(S)
	M := wl.NewMessage(0)
	M.WriteHeader(O.GetId(), 2)
	O.Enqueue(M)

	if O.Debug() {
		M.DebugRequest(O.GetDisplay(), "commit")
	}
}
