package build

import "github.com/baserock/morph/pkg/morph"

// defaultCommands supplies the phase's default command list for a declared
// build-system when the chunk morphology does not override that phase,
// per spec.md 4.5 "Run phases".
func defaultCommands(buildSystem string, phase morph.Phase) []string {
	switch buildSystem {
	case "autotools":
		switch phase {
		case morph.PhaseConfigure:
			return []string{"./configure --prefix=\"$PREFIX\""}
		case morph.PhaseBuild:
			return []string{"make"}
		case morph.PhaseInstall:
			return []string{"make DESTDIR=\"$DESTDIR\" install"}
		}
	case "cmake":
		switch phase {
		case morph.PhaseConfigure:
			return []string{"cmake -DCMAKE_INSTALL_PREFIX=\"$PREFIX\" ."}
		case morph.PhaseBuild:
			return []string{"make"}
		case morph.PhaseInstall:
			return []string{"make DESTDIR=\"$DESTDIR\" install"}
		}
	case "make":
		switch phase {
		case morph.PhaseBuild:
			return []string{"make"}
		case morph.PhaseInstall:
			return []string{"make DESTDIR=\"$DESTDIR\" PREFIX=\"$PREFIX\" install"}
		}
	case "python-distutils":
		switch phase {
		case morph.PhaseBuild:
			return []string{"python setup.py build"}
		case morph.PhaseInstall:
			return []string{"python setup.py install --prefix=\"$PREFIX\" --root=\"$DESTDIR\""}
		}
	case "qmake":
		switch phase {
		case morph.PhaseConfigure:
			return []string{"qmake PREFIX=\"$PREFIX\""}
		case morph.PhaseBuild:
			return []string{"make"}
		case morph.PhaseInstall:
			return []string{"make INSTALL_ROOT=\"$DESTDIR\" install"}
		}
	case "manual":
		// No default commands; a manual chunk must declare everything it
		// needs in its own phase command lists.
	}
	return nil
}
