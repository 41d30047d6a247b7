package schema

// CommandResult tells the command queue what to do with the issuing client
// after a command returns.
type CommandResult int

const (
	// ResultNormal lets the issuing client continue (and exit if it was a
	// one-shot client).
	ResultNormal CommandResult = iota
	// ResultYield keeps the issuing client waiting; something else will allow
	// it to exit later.
	ResultYield
)

// String renders the result for logs.
func (r CommandResult) String() string {
	if r == ResultYield {
		return "yield"
	}
	return "normal"
}
