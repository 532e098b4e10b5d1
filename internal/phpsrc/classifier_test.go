package phpsrc

import (
	"testing"

	"github.com/moduhost/workerd/internal/detector"
)

func TestClassifyNamedDeclarations(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   detector.ChangeType
	}{
		{"named class", "<?php class Foo {}", detector.ChangeClassFile},
		{"named class uppercase keyword", "<?php CLASS Foo {}", detector.ChangeClassFile},
		{"abstract class", "<?php abstract class Foo {}", detector.ChangeClassFile},
		{"final readonly class", "<?php final readonly class Foo {}", detector.ChangeClassFile},
		{"interface", "<?php interface Renderable {}", detector.ChangeClassFile},
		{"trait", "<?php trait HasSlug { }", detector.ChangeClassFile},
		{"backed enum", "<?php enum Status: string { case Active = 'a'; }", detector.ChangeClassFile},
		{"namespaced class", "<?php namespace App; class Foo extends Bar {}", detector.ChangeClassFile},
		{"attribute then class on one line", "<?php #[Attribute] class Marker {}", detector.ChangeClassFile},

		{"anonymous class", "<?php return new class { public function go() {} };", detector.ChangeRebindable},
		{"anonymous class with args", "<?php $x = new class($dep) extends Base implements I {};", detector.ChangeRebindable},
		{"anonymous readonly class", "<?php $x = new readonly class {};", detector.ChangeRebindable},
		{"closures only", "<?php return function () { return 42; };", detector.ChangeRebindable},
		{"class constant access", "<?php $name = Foo::class;", detector.ChangeRebindable},
		{"property named class", "<?php $meta = $row->class;", detector.ChangeRebindable},
		{"nullsafe property named class", "<?php $meta = $row?->class;", detector.ChangeRebindable},
		{"class keyword in line comment", "<?php // class Hidden {}\nreturn 1;", detector.ChangeRebindable},
		{"class keyword in hash comment", "<?php # class Hidden {}\nreturn 1;", detector.ChangeRebindable},
		{"class keyword in block comment", "<?php /* class Hidden {} */ return 1;", detector.ChangeRebindable},
		{"class keyword in single-quoted string", "<?php $s = 'class Hidden {}';", detector.ChangeRebindable},
		{"class keyword in double-quoted string", "<?php $s = \"class Hidden {}\";", detector.ChangeRebindable},
		{"class keyword in heredoc", "<?php $s = <<<EOT\nclass Hidden {}\nEOT;\nreturn 1;", detector.ChangeRebindable},
		{"class keyword in nowdoc", "<?php $s = <<<'EOT'\nclass Hidden {}\nEOT;\nreturn 1;", detector.ChangeRebindable},
		{"class attribute in html", "<div class=\"hero\">no php here</div>", detector.ChangeRebindable},
		{"html around php", "<div class=\"x\"><?php echo $v; ?></div>", detector.ChangeRebindable},
		{"variable named class", "<?php $class = 'Foo'; return new $class();", detector.ChangeRebindable},
		{"empty file", "", detector.ChangeRebindable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Classifier{}).Classify([]byte(tt.source)); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.source, got, tt.want)
			}
		})
	}
}

// A named declaration after an anonymous class in the same file must still
// be found.
func TestNamedAfterAnonymous(t *testing.T) {
	source := "<?php $x = new class {}; class Foo {}"
	if got := (Classifier{}).Classify([]byte(source)); got != detector.ChangeClassFile {
		t.Errorf("Classify() = %v, want ClassFile", got)
	}
}

// Heredoc bodies end at the label even when indented (PHP 7.3+).
func TestIndentedHeredocTerminator(t *testing.T) {
	source := "<?php $s = <<<SQL\n  select 1\n  SQL;\nclass Foo {}"
	if got := (Classifier{}).Classify([]byte(source)); got != detector.ChangeClassFile {
		t.Errorf("Classify() = %v, want ClassFile after indented heredoc end", got)
	}
}

// Escaped quotes must not end a string early.
func TestEscapedQuotes(t *testing.T) {
	source := `<?php $s = 'it\'s: class Hidden {}'; return 1;`
	if got := (Classifier{}).Classify([]byte(source)); got != detector.ChangeRebindable {
		t.Errorf("Classify() = %v, want Rebindable", got)
	}
}
