package lsp

// UIPosition is an editor coordinate. Both fields are 1-based.
type UIPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// UIRange is an editor range; all four coordinates are 1-based.
type UIRange struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// ToProtocol converts an editor position to the 0-based protocol position.
func ToProtocol(p UIPosition) Position {
	return Position{Line: int32(p.Line - 1), Character: int32(p.Column - 1)}
}

// ToUI converts a 0-based protocol position to the editor's 1-based one.
func ToUI(p Position) UIPosition {
	return UIPosition{Line: int(p.Line) + 1, Column: int(p.Character) + 1}
}

// RangeToUI maps each of the four coordinates of r independently.
func RangeToUI(r Range) UIRange {
	start, end := ToUI(r.Start), ToUI(r.End)
	return UIRange{
		StartLine:   start.Line,
		StartColumn: start.Column,
		EndLine:     end.Line,
		EndColumn:   end.Column,
	}
}
