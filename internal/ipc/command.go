package ipc

import "fmt"

// Command is the closed set of requests a controller can send to a worker.
type Command uint8

const (
	CmdSpaces Command = iota + 1
	CmdReset
	CmdStep
	CmdBattleFiles
	CmdApplyResults
	CmdFinalData
	CmdGetAttr
	CmdSetAttr
	CmdHasAttr
	CmdCallMethod
	CmdClose
)

var commandNames = map[Command]string{
	CmdSpaces:       "spaces",
	CmdReset:        "reset",
	CmdStep:         "step",
	CmdBattleFiles:  "get_battle_files",
	CmdApplyResults: "apply_sim_results",
	CmdFinalData:    "get_final_data",
	CmdGetAttr:      "get_attr",
	CmdSetAttr:      "set_attr",
	CmdHasAttr:      "has_attr",
	CmdCallMethod:   "call_method",
	CmdClose:        "close",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", uint8(c))
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}
