package words

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/text/unicode/norm"
)

func first(int) int { return 0 }

func TestClean(t *testing.T) {
	Convey("Given words with dictionary markers", t, func() {
		So(Clean(" 고-구마 "), ShouldEqual, "고구마")
		So(Clean("마^차"), ShouldEqual, "마차")
		So(Clean(""), ShouldEqual, "")
	})

	Convey("Given a decomposed Hangul word", t, func() {
		decomposed := norm.NFD.String("사과")
		So(decomposed, ShouldNotEqual, "사과")

		Convey("Then Clean composes it", func() {
			So(Clean(decomposed), ShouldEqual, "사과")
		})
	})
}

func TestParse(t *testing.T) {
	Convey("Given a TSV word list", t, func() {
		entries, err := Parse(strings.NewReader("# header\n\n사과\tapple\n과자\tsnack\n"))

		Convey("Then comments and blanks are skipped", func() {
			So(err, ShouldBeNil)
			So(entries, ShouldResemble, []Entry{
				{Word: "사과", Definition: "apple"},
				{Word: "과자", Definition: "snack"},
			})
		})
	})

	Convey("Given a line without a tab", t, func() {
		_, err := Parse(strings.NewReader("사과 apple\n"))

		Convey("Then it is rejected as malformed", func() {
			So(errors.Is(err, ErrMalformedEntry), ShouldBeTrue)
		})
	})
}

func TestMemoryDictionary(t *testing.T) {
	ctx := context.Background()

	Convey("Given the default dictionary", t, func() {
		d, err := Default(WithIntn(first))
		So(err, ShouldBeNil)
		So(d.Size(), ShouldBeGreaterThan, 40)

		Convey("When looking up a known word", func() {
			e, ok, err := d.Lookup(ctx, "사과")

			Convey("Then it exists with a definition", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(e.Definition, ShouldNotBeEmpty)
			})
		})

		Convey("When looking up a word stored with markers", func() {
			_, ok, err := d.Lookup(ctx, "고구마")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("When looking up an unknown word", func() {
			_, ok, err := d.Lookup(ctx, "없는말")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("When looking up an empty word", func() {
			_, _, err := d.Lookup(ctx, "  ")
			So(errors.Is(err, ErrInvalidWord), ShouldBeTrue)
		})

		Convey("When asking for the word after 사과", func() {
			e, ok, err := d.Next(ctx, "사과", nil)

			Convey("Then it starts with 과", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(e.Word, ShouldEqual, "과자")
			})
		})

		Convey("When every candidate is used", func() {
			_, ok, err := d.Next(ctx, "사과", []string{"과자"})

			Convey("Then nothing is found", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When endWith is a single character", func() {
			e, ok, err := d.Next(ctx, "차", []string{"차표"})
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(e.Word, ShouldEqual, "차례")
		})

		Convey("When endWith is empty", func() {
			_, _, err := d.Next(ctx, "", nil)
			So(errors.Is(err, ErrInvalidWord), ShouldBeTrue)
		})

		Convey("When asking for a start word", func() {
			e, err := d.Start(ctx)

			Convey("Then it can be continued", func() {
				So(err, ShouldBeNil)
				So(len([]rune(e.Word)), ShouldBeGreaterThanOrEqualTo, 2)
				_, ok, err := d.Next(ctx, e.Word, []string{e.Word})
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})
		})
	})

	Convey("Given no entries", t, func() {
		_, err := NewMemory(nil)
		So(errors.Is(err, ErrEmptyDictionary), ShouldBeTrue)
	})

	Convey("Given duplicate entries", t, func() {
		d, err := NewMemory([]Entry{{Word: "사과", Definition: "first"}, {Word: "사과", Definition: "second"}})
		So(err, ShouldBeNil)

		Convey("Then the first one wins", func() {
			e, ok, err := d.Lookup(ctx, "사과")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(e.Definition, ShouldEqual, "first")
			So(d.Size(), ShouldEqual, 1)
		})

		Convey("Then a start word is still available", func() {
			e, err := d.Start(ctx)
			So(err, ShouldBeNil)
			So(e.Word, ShouldEqual, "사과")
		})
	})
}

func TestLoadFile(t *testing.T) {
	Convey("Given a word list on disk", t, func() {
		path := filepath.Join(t.TempDir(), "words.tsv")
		So(os.WriteFile(path, []byte("바다\tsea\n다리\tbridge\n"), 0o600), ShouldBeNil)

		d, err := LoadFile(path)
		So(err, ShouldBeNil)
		So(d.Size(), ShouldEqual, 2)
	})

	Convey("Given a missing file", t, func() {
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.tsv"))
		So(err, ShouldNotBeNil)
	})
}
