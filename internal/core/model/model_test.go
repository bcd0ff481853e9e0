package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRelationType(t *testing.T) {
	cases := map[string]string{
		"father of":       "FATHER_OF",
		"  ally-of  ":     "ALLY_OF",
		"养子":              "养子",
		"killed (in 923)": "KILLED_IN_923",
		"already_OK":      "ALREADY_OK",
		"":                DefaultRelationType,
		"-- / --":         DefaultRelationType,
		"`; DROP":         "DROP",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeRelationType(in), "input %q", in)
	}
}

func TestNewRelationTypeKeepsLabel(t *testing.T) {
	rt := NewRelationType(" sworn brother ")
	assert.Equal(t, "sworn brother", rt.Label)
	assert.Equal(t, "SWORN_BROTHER", rt.Token)
}

func TestPersonNames(t *testing.T) {
	p := Person{Name: " 朱温 ", Aliases: []string{"朱全忠", "", "朱温", "朱晃"}}
	assert.Equal(t, []string{"朱温", "朱全忠", "朱晃"}, p.Names())
}

func TestRoleIsEmpty(t *testing.T) {
	assert.True(t, RoleIsEmpty(""))
	assert.True(t, RoleIsEmpty("其他"))
	assert.True(t, RoleIsEmpty("Other"))
	assert.False(t, RoleIsEmpty("皇帝"))
}
