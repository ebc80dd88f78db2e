package trampoline

import "duskos/kerror"

var errTrampolineTooLarge = &kerror.Error{Module: "trampoline", Message: "trampoline blob exceeds the reserved trampoline region"}
