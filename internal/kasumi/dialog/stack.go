package dialog

// Frame is one active instance of a flow on the dialog stack: the flow it
// runs, which step resumes next, the frame-owned state, and the prompt it is
// suspended on, if any. Frames never share state; only the top frame receives
// input, pushes children, or pops itself.
type Frame struct {
	FlowID  string
	Index   int
	State   State
	Pending *Prompt
}

// Stack is the ordered sequence of frames for one conversation; the top
// frame is the most recently begun and the only active one.
type Stack struct {
	frames []*Frame
}

// NewStack returns an empty dialog stack.
func NewStack() *Stack {
	return &Stack{}
}

// Depth reports the number of active frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Top returns the active frame, or nil when the stack is empty.
func (s *Stack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func (s *Stack) push(f *Frame) {
	s.frames = append(s.frames, f)
}

func (s *Stack) pop() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

// Clear removes every frame unconditionally. Used by the cancel interrupt.
func (s *Stack) Clear() {
	s.frames = nil
}
