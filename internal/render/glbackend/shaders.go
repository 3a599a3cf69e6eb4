package glbackend

const maxLights = 4

var litVertSrc = `#version 410 core

layout(location = 0) in vec3 aPosition;
layout(location = 1) in vec3 aNormal;

out vec3 vPosition;
out vec3 vNormal;

uniform mat4 uModel;
uniform mat4 uView;
uniform mat4 uProjection;

void main() {
    vec4 worldPos = uModel * vec4(aPosition, 1.0);
    vPosition = worldPos.xyz;
    vNormal = mat3(transpose(inverse(uModel))) * aNormal;
    gl_Position = uProjection * uView * worldPos;
}
`

var litFragSrc = `#version 410 core

in vec3 vPosition;
in vec3 vNormal;

out vec4 FragColor;

uniform vec3 uColor;
uniform vec3 uCameraPos;

struct Light {
    vec3 position;
    vec3 color;
    float intensity;
    int type;
};

#define MAX_LIGHTS 4
uniform Light uLights[MAX_LIGHTS];
uniform int uLightCount;
uniform vec3 uAmbient;

void main() {
    vec3 N = length(vNormal) > 0.0 ? normalize(vNormal) : vec3(0.0, 0.0, 1.0);
    vec3 V = normalize(uCameraPos - vPosition);
    vec3 color = uColor * uAmbient;

    for (int i = 0; i < uLightCount && i < MAX_LIGHTS; i++) {
        vec3 L;
        float attenuation = 1.0;
        if (uLights[i].type == 1) {
            L = normalize(uLights[i].position);
        } else {
            vec3 d = uLights[i].position - vPosition;
            L = normalize(d);
            attenuation = 1.0 / (1.0 + 0.01 * dot(d, d));
        }
        float NdotL = max(dot(N, L), 0.0);
        vec3 H = normalize(V + L);
        float spec = pow(max(dot(N, H), 0.0), 32.0) * 0.2;
        color += (uColor * NdotL + vec3(spec)) * uLights[i].color * uLights[i].intensity * attenuation;
    }

    FragColor = vec4(color, 1.0);
}
`
