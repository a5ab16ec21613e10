package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRedirectsAreValid(t *testing.T) {
	require.NoError(t, ValidateRedirects(DefaultRedirects))
	assert.Len(t, DefaultRedirects, 11)

	for _, r := range DefaultRedirects {
		assert.Equal(t, Kernel32Module, r.SourceModule)
		assert.Equal(t, FromAppModule, r.TargetModule)
		assert.Contains(t, r.TargetSymbol, "FromAppW", r.String())
	}
}

func TestValidateRedirects(t *testing.T) {
	tests := []struct {
		name    string
		table   []Redirect
		wantErr bool
	}{
		{"empty table", nil, false},
		{"missing target symbol", []Redirect{{SourceModule: "a.dll", TargetModule: "b.dll", SourceSymbol: "F"}}, true},
		{"trailing space", []Redirect{{SourceModule: "a.dll", TargetModule: "b.dll", SourceSymbol: "F", TargetSymbol: "G "}}, true},
		{"duplicate source", []Redirect{
			{SourceModule: "a.dll", TargetModule: "b.dll", SourceSymbol: "F", TargetSymbol: "G"},
			{SourceModule: "A.DLL", TargetModule: "c.dll", SourceSymbol: "F", TargetSymbol: "H"},
		}, true},
		{"same symbol in different modules", []Redirect{
			{SourceModule: "a.dll", TargetModule: "b.dll", SourceSymbol: "F", TargetSymbol: "G"},
			{SourceModule: "c.dll", TargetModule: "b.dll", SourceSymbol: "F", TargetSymbol: "G"},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRedirects(tt.table)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRedirectsDuplicateIsSentinel(t *testing.T) {
	table := []Redirect{DefaultRedirects[0], DefaultRedirects[0]}
	assert.ErrorIs(t, ValidateRedirects(table), ErrDuplicateRedirect)
}

func TestFilterRedirects(t *testing.T) {
	out := FilterRedirects(DefaultRedirects, []string{"CreateFile2", " MoveFileW ", "NotAnExport"})
	assert.Len(t, out, len(DefaultRedirects)-2)
	for _, r := range out {
		assert.NotEqual(t, "CreateFile2", r.SourceSymbol)
		assert.NotEqual(t, "MoveFileW", r.SourceSymbol)
	}

	all := FilterRedirects(DefaultRedirects, nil)
	assert.Equal(t, DefaultRedirects, all)

	all[0].SourceSymbol = "changed"
	assert.Equal(t, "CopyFileW", DefaultRedirects[0].SourceSymbol, "filter must copy the table")
}

func TestRedirectString(t *testing.T) {
	assert.Equal(t,
		"KERNEL32.dll!CopyFileW -> api-ms-win-core-file-fromapp-l1-1-0.dll!CopyFileFromAppW",
		DefaultRedirects[0].String(),
	)
}
