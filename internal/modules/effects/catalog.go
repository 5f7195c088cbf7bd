package effects

import (
	"fmt"
	"math/rand/v2"
	"strconv"
)

// Default builds the standard effect catalog. Each call returns a new registry.
func Default() *Registry {
	return MustRegistry(defaultDefinitions(), defaultAliases)
}

var defaultAliases = map[string]string{
	"bassboost": "bass",
	"chip":      "chipmunk",
	"chipmonk":  "chipmunk",
	"nc":        "nightcore",
	"vw":        "vaporwave",
	"rev":       "reverse",
	"backwards": "reverse",
	"mirror":    "hmirror",
	"gray":      "grayscale",
	"grey":      "grayscale",
	"negate":    "invert",
	"fast":      "speed",
	"loud":      "earrape",
	"crush":     "distort",
	"pulsator":  "8d",
	"phone":     "telephone",
	"fry":       "deepfry",
}

func defaultDefinitions() []*Definition {
	return []*Definition{
		// Audio
		NewDefinition("bass", KindAudio, "Boost low frequencies by N dB (default 10)",
			optionalNumber(-20, 30), func(v *Value) string {
				return fmt.Sprintf("bass=g=%s:f=110:w=0.6", num(v, 10))
			}),
		NewDefinition("treble", KindAudio, "Boost high frequencies by N dB (default 5)",
			optionalNumber(-20, 30), func(v *Value) string {
				return fmt.Sprintf("treble=g=%s:f=3000:w=0.6", num(v, 5))
			}),
		NewDefinition("volume", KindAudio, "Change volume by N dB (default 6)",
			optionalNumber(-30, 30), func(v *Value) string {
				return fmt.Sprintf("volume=%sdB", num(v, 6))
			}),
		NewDefinition("reverb", KindAudio, "Room reverb", nil, constant("aecho=0.8:0.88:60|90:0.4|0.3")),
		NewDefinition("echo", KindAudio, "Echo with N ms delay (default 500)",
			optionalNumber(20, 3000), func(v *Value) string {
				return fmt.Sprintf("aecho=0.8:0.9:%s:0.5", num(v, 500))
			}),
		NewDefinition("chipmunk", KindAudio, "Pitch up without changing length", nil,
			constant("aresample=44100,asetrate=44100*1.5,aresample=44100,atempo=0.666667")),
		NewDefinition("deep", KindAudio, "Pitch down without changing length", nil,
			constant("aresample=44100,asetrate=44100*0.75,aresample=44100,atempo=1.333333")),
		NewDefinition("pitch", KindAudio, "Shift pitch by factor N (default 1.25)",
			optionalNumber(0.5, 2), func(v *Value) string {
				f := numValue(v, 1.25)
				return fmt.Sprintf("aresample=44100,asetrate=44100*%s,aresample=44100,atempo=%s",
					format(f), format(1/f))
			}),
		NewDefinition("nightcore", KindAudio, "Speed and pitch up", nil,
			constant("aresample=44100,asetrate=44100*1.25,aresample=44100")),
		NewDefinition("vaporwave", KindAudio, "Slow down and pitch down", nil,
			constant("aresample=44100,asetrate=44100*0.8,aresample=44100,lowpass=f=6000")),
		NewDefinition("earrape", KindAudio, "Extremely loud and crushed", nil,
			constant("volume=18dB,acrusher=bits=6:mix=0.7,alimiter=limit=0.9")),
		NewDefinition("distort", KindAudio, "Bit-crush to N bits (default 8)",
			optionalNumber(1, 16), func(v *Value) string {
				return fmt.Sprintf("acrusher=bits=%s:mode=log:aa=1", num(v, 8))
			}),
		NewDefinition("robot", KindAudio, "Robotic voice", nil,
			constant("afftfilt=real='hypot(re,im)*sin(0)':imag='hypot(re,im)*cos(0)':win_size=512:overlap=0.75")),
		NewDefinition("phaser", KindAudio, "Phaser with speed N Hz (default 0.5)",
			optionalNumber(0.1, 2), func(v *Value) string {
				return fmt.Sprintf("aphaser=type=t:speed=%s", num(v, 0.5))
			}),
		NewDefinition("flanger", KindAudio, "Flanger with N ms base delay (default 5)",
			optionalNumber(0, 30), func(v *Value) string {
				return fmt.Sprintf("flanger=delay=%s:depth=5", num(v, 5))
			}),
		NewDefinition("tremolo", KindAudio, "Tremolo at N Hz (default 5)",
			optionalNumber(0.1, 100), func(v *Value) string {
				return fmt.Sprintf("tremolo=f=%s:d=0.8", num(v, 5))
			}),
		NewDefinition("vibrato", KindAudio, "Vibrato at N Hz (default 7)",
			optionalNumber(0.1, 100), func(v *Value) string {
				return fmt.Sprintf("vibrato=f=%s:d=0.5", num(v, 7))
			}),
		NewDefinition("8d", KindAudio, "Rotating stereo at N Hz (default 0.125)",
			optionalNumber(0.01, 10), func(v *Value) string {
				return fmt.Sprintf("apulsator=hz=%s", num(v, 0.125))
			}),
		NewDefinition("lowpass", KindAudio, "Low-pass at N Hz (default 1000)",
			optionalNumber(20, 20000), func(v *Value) string {
				return fmt.Sprintf("lowpass=f=%s", num(v, 1000))
			}),
		NewDefinition("highpass", KindAudio, "High-pass at N Hz (default 1000)",
			optionalNumber(20, 20000), func(v *Value) string {
				return fmt.Sprintf("highpass=f=%s", num(v, 1000))
			}),
		NewDefinition("underwater", KindAudio, "Muffled underwater sound", nil,
			constant("lowpass=f=450,aecho=0.8:0.7:40:0.5")),
		NewDefinition("telephone", KindAudio, "Narrow-band phone line", nil,
			constant("highpass=f=300,lowpass=f=3400,acrusher=bits=10:mix=0.3")),
		NewDefinition("areverse", KindAudio, "Reverse the audio only", nil, constant("areverse")),

		// Video
		NewDefinition("hmirror", KindVideo, "Mirror the left half onto the right", nil,
			constant("crop=trunc(iw/4)*2:ih:0:0,split[hml][hmr];[hmr]hflip[hmf];[hml][hmf]hstack")),
		NewDefinition("vmirror", KindVideo, "Mirror the top half onto the bottom", nil,
			constant("crop=iw:trunc(ih/4)*2:0:0,split[vmt][vmb];[vmb]vflip[vmf];[vmt][vmf]vstack")),
		NewDefinition("hflip", KindVideo, "Flip horizontally", nil, constant("hflip")),
		NewDefinition("vflip", KindVideo, "Flip vertically", nil, constant("vflip")),
		NewDefinition("rotate", KindVideo, "Rotate by 90, 180 or 270 degrees (default 90)",
			optionalOneOf(90, 180, 270), func(v *Value) string {
				switch numValue(v, 90) {
				case 180:
					return "transpose=1,transpose=1"
				case 270:
					return "transpose=2"
				default:
					return "transpose=1"
				}
			}),
		NewDefinition("invert", KindVideo, "Invert colours", nil, constant("negate")),
		NewDefinition("grayscale", KindVideo, "Remove colour", nil, constant("hue=s=0")),
		NewDefinition("sepia", KindVideo, "Sepia tone", nil,
			constant("colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131")),
		NewDefinition("blur", KindVideo, "Box blur with radius N (default 5)",
			optionalNumber(1, 20), func(v *Value) string {
				r := int(numValue(v, 5))
				return fmt.Sprintf("boxblur=%d:1", r)
			}),
		NewDefinition("sharpen", KindVideo, "Unsharp mask amount N (default 1.5)",
			optionalNumber(0, 5), func(v *Value) string {
				return fmt.Sprintf("unsharp=5:5:%s:5:5:0", num(v, 1.5))
			}),
		NewDefinition("pixelate", KindVideo, "Pixelate with block size N (default 10)",
			optionalNumber(2, 64), func(v *Value) string {
				n := int(numValue(v, 10))
				return fmt.Sprintf("scale=trunc(iw/%d):trunc(ih/%d):flags=neighbor,scale=trunc(iw*%d/2)*2:trunc(ih*%d/2)*2:flags=neighbor",
					n, n, n, n)
			}),
		NewDefinition("contrast", KindVideo, "Contrast factor N (default 1.5)",
			optionalNumber(0, 3), func(v *Value) string {
				return fmt.Sprintf("eq=contrast=%s", num(v, 1.5))
			}),
		NewDefinition("brightness", KindVideo, "Brightness offset N (default 0.2)",
			optionalNumber(-1, 1), func(v *Value) string {
				return fmt.Sprintf("eq=brightness=%s", num(v, 0.2))
			}),
		NewDefinition("saturation", KindVideo, "Saturation factor N (default 2)",
			optionalNumber(0, 3), func(v *Value) string {
				return fmt.Sprintf("eq=saturation=%s", num(v, 2))
			}),
		NewDefinition("hue", KindVideo, "Rotate hue by N degrees (default 90)",
			optionalNumber(-180, 180), func(v *Value) string {
				return fmt.Sprintf("hue=h=%s", num(v, 90))
			}),
		NewDefinition("vignette", KindVideo, "Dark vignette", nil, constant("vignette=PI/4")),
		NewDefinition("edges", KindVideo, "Edge detection", nil, constant("edgedetect=low=0.1:high=0.4")),
		NewDefinition("zoom", KindVideo, "Center zoom by factor N (default 2)",
			optionalNumber(1, 4), func(v *Value) string {
				f := num(v, 2)
				return fmt.Sprintf("crop=iw/%[1]s:ih/%[1]s,scale=trunc(iw*%[1]s/2)*2:trunc(ih*%[1]s/2)*2", f)
			}),
		NewDefinition("deepfry", KindVideo, "Oversaturated, overcontrasted, oversharpened", nil,
			constant("eq=saturation=3:contrast=1.8,unsharp=7:7:2.5:7:7:0")),
		randomized(NewDefinition("noise", KindVideo, "Film grain of strength N (default 40)",
			optionalNumber(1, 100), func(v *Value) string {
				return fmt.Sprintf("noise=alls=%d:allf=t+u:all_seed=%d", int(numValue(v, 40)), rand.IntN(1<<30))
			})),

		// Complex
		silent(NewDefinition("reverse", KindComplex, "Play video and audio backwards", nil,
			constant("[0:v]reverse[vout];[0:a]areverse[aout]")),
			constant("[0:v]reverse[vout]")),
		silent(NewDefinition("speed", KindComplex, "Change playback speed by factor N (default 2)",
			optionalNumber(0.5, 4), func(v *Value) string {
				f := numValue(v, 2)
				return fmt.Sprintf("[0:v]setpts=PTS/%[1]s[vout];[0:a]atempo=%[1]s[aout]", format(f))
			}),
			func(v *Value) string {
				return fmt.Sprintf("[0:v]setpts=PTS/%s[vout]", format(numValue(v, 2)))
			}),
		silent(NewDefinition("boomerang", KindComplex, "Play forwards then backwards", nil,
			constant(boomerangVideo+";"+
				"[0:a]asplit[baf][bar];[bar]areverse[barv];[baf][barv]concat=n=2:v=0:a=1[aout]")),
			constant(boomerangVideo)),
		silent(randomized(NewDefinition("static", KindComplex, "TV static over picture and sound (default strength 40)",
			optionalNumber(1, 100), func(v *Value) string {
				n := int(numValue(v, 40))
				seed := rand.IntN(1 << 30)
				return fmt.Sprintf("[0:v]noise=alls=%d:allf=t+u:all_seed=%d[vout];"+
					"anoisesrc=c=white:a=%s:seed=%d[sn];[0:a][sn]amix=inputs=2:duration=first[aout]",
					n, seed, format(float64(n)/400), seed)
			})),
			func(v *Value) string {
				return fmt.Sprintf("[0:v]noise=alls=%d:allf=t+u:all_seed=%d[vout]",
					int(numValue(v, 40)), rand.IntN(1<<30))
			}),
	}
}

const boomerangVideo = "[0:v]split[bf][br];[br]reverse[brv];[bf][brv]concat=n=2:v=1:a=0[vout]"

// silent attaches the fragment used when the input has no audio stream
func silent(d *Definition, apply func(*Value) string) *Definition {
	d.applySilent = apply
	return d
}

func randomized(d *Definition) *Definition {
	d.Randomized = true
	return d
}

func constant(fragment string) func(*Value) string {
	return func(*Value) string { return fragment }
}

// noValue accepts only a missing argument
func noValue(v *Value) bool {
	return v == nil
}

func optionalNumber(min, max float64) func(*Value) bool {
	return func(v *Value) bool {
		if v == nil {
			return true
		}
		return v.IsNumber && v.Number >= min && v.Number <= max
	}
}

func optionalOneOf(allowed ...float64) func(*Value) bool {
	return func(v *Value) bool {
		if v == nil {
			return true
		}
		if !v.IsNumber {
			return false
		}
		for _, a := range allowed {
			if v.Number == a {
				return true
			}
		}
		return false
	}
}

func numValue(v *Value, def float64) float64 {
	if v == nil || !v.IsNumber {
		return def
	}
	return v.Number
}

func num(v *Value, def float64) string {
	return format(numValue(v, def))
}

func format(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
