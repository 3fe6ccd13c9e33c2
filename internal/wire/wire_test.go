package wire

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/callsig/internal/model"
)

const sample = `{"method_name":"invoke","call_info_argc":"1","call_info_kw_args":"",` +
	`"args_info":"REQ,String,name;OPT,Integer,count;REST,Array,rest","visibility":"PUBLIC",` +
	`"path":"/gems/rake-12.3.1/lib/rake/task.rb","lineno":181,"receiver_name":"Rake::Task",` +
	`"return_type_name":"Array"}`

func TestDecode(t *testing.T) {
	rec, err := Decode([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "invoke", rec.Method.Name)
	assert.Equal(t, "Rake::Task", rec.Method.Class.FQN)
	assert.Equal(t, &model.GemInfo{Name: "rake", Version: "12.3.1"}, rec.Method.Class.Gem)
	assert.Equal(t, model.Public, rec.Method.Visibility)
	assert.Equal(t, &model.Location{Path: "/gems/rake-12.3.1/lib/rake/task.rb", LineNo: 181}, rec.Method.Location)
	assert.Equal(t, []model.ParameterInfo{
		{Name: "name", Modifier: model.Required},
		{Name: "count", Modifier: model.Optional},
		{Name: "rest", Modifier: model.Rest},
	}, rec.Params)
	// argc 1 covers only the required argument.
	assert.Equal(t, []string{"String", "-", "-"}, rec.ArgTypes)
	assert.Equal(t, "Array", rec.ReturnType)
}

func TestDecodeArgcAllExplicit(t *testing.T) {
	line := strings.Replace(sample, `"call_info_argc":"1"`, `"call_info_argc":-1`, 1)
	rec, err := Decode([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, []string{"String", "Integer", "Array"}, rec.ArgTypes)

	line = strings.Replace(sample, `"call_info_argc":"1"`, `"call_info_argc":2`, 1)
	rec, err = Decode([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, []string{"String", "Integer", "-"}, rec.ArgTypes)
}

func TestMarkExplicitKeywords(t *testing.T) {
	args := []arg{
		{param: model.ParameterInfo{Name: "a", Modifier: model.Required}, typ: "A"},
		{param: model.ParameterInfo{Name: "k", Modifier: model.Keyword}, typ: "K"},
		{param: model.ParameterInfo{Name: "j", Modifier: model.Keyword}, typ: "J"},
		{param: model.ParameterInfo{Name: "r", Modifier: model.KeywordRequired}, typ: "R"},
		{param: model.ParameterInfo{Name: "opts", Modifier: model.KeywordRest}, typ: "Hash"},
	}
	markExplicit(args, 1, []string{"k", "r", "extra"})
	var got []bool
	for _, a := range args {
		got = append(got, a.explicit)
	}
	assert.Equal(t, []bool{true, true, false, true, true}, got)
}

func TestDecodeSkipsAnonymousReceiver(t *testing.T) {
	line := strings.Replace(sample, `"Rake::Task"`, `"#<Class:0x000055>"`, 1)
	_, err := Decode([]byte(line))
	assert.ErrorIs(t, err, ErrSkipped)
}

func TestDecodeTruncatesReceiver(t *testing.T) {
	long := strings.Repeat("A", 120)
	line := strings.Replace(sample, `"Rake::Task"`, `"`+long+`"`, 1)
	rec, err := Decode([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", MaxReceiverLen)+"...", rec.Method.Class.FQN)
}

func TestDecodeTruncatesReceiverOnRuneBoundary(t *testing.T) {
	// 89 ASCII bytes, then a 3-byte rune straddling the limit.
	long := strings.Repeat("A", MaxReceiverLen-1) + "日本"
	line := strings.Replace(sample, `"Rake::Task"`, `"`+long+`"`, 1)
	rec, err := Decode([]byte(line))
	require.NoError(t, err)
	fqn := rec.Method.Class.FQN
	assert.True(t, utf8.ValidString(fqn))
	assert.Equal(t, strings.Repeat("A", MaxReceiverLen-1)+"...", fqn)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"method_name":`,
		"bad modifier":   strings.Replace(sample, "OPT,Integer", "WAT,Integer", 1),
		"bad visibility": strings.Replace(sample, `"PUBLIC"`, `"SECRET"`, 1),
		"no return":      strings.Replace(sample, `"return_type_name":"Array"`, `"return_type_name":""`, 1),
		"bad argc":       strings.Replace(sample, `"call_info_argc":"1"`, `"call_info_argc":"x"`, 1),
	}
	for name, line := range cases {
		_, err := Decode([]byte(line))
		var me *MalformedError
		if !errors.As(err, &me) {
			t.Errorf("%s: expected MalformedError, got %v", name, err)
			continue
		}
		assert.NotEmpty(t, me.Line, name)
	}
}

func TestDecodeNoArgs(t *testing.T) {
	line := strings.Replace(sample, `"args_info":"REQ,String,name;OPT,Integer,count;REST,Array,rest"`, `"args_info":""`, 1)
	line = strings.Replace(line, `"call_info_argc":"1"`, `"call_info_argc":"0"`, 1)
	rec, err := Decode([]byte(line))
	require.NoError(t, err)
	assert.Empty(t, rec.Params)
	assert.Empty(t, rec.ArgTypes)
}
