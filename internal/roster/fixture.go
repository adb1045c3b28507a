package roster

var fixtureRows = [][2]string{
	{"AILA ALLA", "KG1"},
	{"AMIN OSMAN", "kg2"},
	{"AYLA ERDOĞAN", "Year 1"},
	{"AWES AYARI", "Year 2"},
	{"ADAM KHALIFA ElSHAWESH", "Year 3"},
	{"BAYA MEFTEH", "Year 4"},
	{"AHMED KARIM OTHMAN", "Year 5"},
	{"ABDELRAHMEN DRIDI", "Year 6"},
	{"ADAM KENZ", "Year 7"},
	{"AHMET EMRE DUZCU", "Year 8"},
	{"ABDULLAH ADEM TURAN", "Year 9"},
}

// Fallback returns the built-in sample roster used when the real one cannot be loaded.
func Fallback() []Student {
	out := make([]Student, 0, len(fixtureRows))
	for _, row := range fixtureRows {
		out = append(out, NewStudent(row[0], row[1]))
	}
	return out
}
