package models

type Action string

const (
	ActionProcess  Action = "process"
	ActionRestrict Action = "restrict"
)

type VarStatus string

const (
	StatusSuccess   VarStatus = "success"
	StatusException VarStatus = "exception"
)

// Variable is a named template value together with how a job that refers to
// it must be treated.
type Variable struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Result  string    `json:"result"`
	Action  Action    `json:"action"`
	Status  VarStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// Processed returns a variable whose result is value as-is.
func Processed(name, value string) Variable {
	return Variable{
		Name:   name,
		Value:  value,
		Result: value,
		Action: ActionProcess,
		Status: StatusSuccess,
	}
}
